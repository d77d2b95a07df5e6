// Package inflect 提供关联命名所需的英文复数/单数与大小写转换
package inflect

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Pluralize 返回复数形式，只处理最后一个下划线分段
func Pluralize(word string) string {
	head, last := splitLast(word)
	return head + inflection.Plural(last)
}

// Singularize 返回单数形式，只处理最后一个下划线分段
func Singularize(word string) string {
	head, last := splitLast(word)
	return head + inflection.Singular(last)
}

func splitLast(word string) (string, string) {
	i := strings.LastIndex(word, "_")
	if i < 0 {
		return "", word
	}
	return word[:i+1], word[i+1:]
}

// Underscore 驼峰转下划线："FallenPetal" -> "fallen_petal"
func Underscore(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Camelize 下划线转驼峰："fallen_petal" -> "FallenPetal"
func Camelize(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Classify 关联名转类名："fallen_petals" -> "FallenPetal"
func Classify(name string) string {
	return Camelize(Singularize(name))
}
