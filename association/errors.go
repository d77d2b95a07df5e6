package association

import (
	"fmt"
	"strings"

	"docbind/document"
	"docbind/errors"
)

func configurationError(owner *document.Model, relation, format string, args ...any) error {
	return errors.NewError(errors.ErrCodeConfiguration,
		fmt.Sprintf("association: %s#%s: %s", owner.Name(), relation, fmt.Sprintf(format, args...))).
		WithDetails(map[string]any{"owner": owner.Name(), "relation": relation})
}

func ambiguousError(a *Association, other *document.Model, candidates []string) error {
	return errors.NewError(errors.ErrCodeAmbiguousRelationship,
		fmt.Sprintf("association: ambiguous relationship: %s has relations [%s] that all could be the inverse of %s#%s; set InverseOf on %s#%s",
			other.Name(), strings.Join(candidates, ", "), a.owner.Name(), a.name, a.owner.Name(), a.name)).
		WithDetails(map[string]any{
			"owner":      a.owner.Name(),
			"relation":   a.name,
			"class":      other.Name(),
			"candidates": candidates,
		})
}

func mixedError(a *Association, target *document.Document) error {
	return errors.NewError(errors.ErrCodeMixedRelation,
		fmt.Sprintf("association: %s#%s (%s) cannot reference %s: embedded and referenced documents cannot be mixed without Cyclic",
			a.owner.Name(), a.name, a.macro, target.Model().Name())).
		WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name, "target": target.Model().Name()})
}

func unsupportedError(a *Association, op string) error {
	return errors.NewError(errors.ErrCodeUnsupportedOperation,
		fmt.Sprintf("association: %s is not supported on %s#%s (%s)", op, a.owner.Name(), a.name, a.macro)).
		WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name, "operation": op})
}

func unsavedError(a *Association, base *document.Document) error {
	return errors.NewError(errors.ErrCodeUnsavedDocument,
		fmt.Sprintf("association: cannot create %s through %s#%s while %s is not saved", a.className(), a.owner.Name(), a.name, base)).
		WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name})
}
