// internal/i18n/localizer.go
package i18n

import (
	"golang.org/x/text/language"
)

// CookieName 保存语言选择的 cookie
const CookieName = "lang"

// Localizer 绑定到一次请求或一个连接的语言
type Localizer struct {
	catalog *Catalog
	lang    string
}

// NewLocalizer 创建 Localizer，不支持的语言退回默认语言
func NewLocalizer(c *Catalog, lang string) *Localizer {
	if !c.Has(lang) {
		lang = c.DefaultLanguage()
	}
	return &Localizer{catalog: c, lang: normalizeLang(lang)}
}

// Lang 当前语言
func (l *Localizer) Lang() string {
	return l.lang
}

// T 翻译
func (l *Localizer) T(key string) string {
	return l.catalog.Translate(l.lang, key)
}

// Resolve 依次按查询参数、cookie、Accept-Language 选择第一个支持的语言
func Resolve(c *Catalog, query, cookie, acceptLanguage string) string {
	for _, candidate := range []string{query, cookie} {
		if candidate != "" && c.Has(candidate) {
			return normalizeLang(candidate)
		}
	}

	if acceptLanguage != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
		if err == nil {
			for _, tag := range tags {
				base, _ := tag.Base()
				if c.Has(base.String()) {
					return base.String()
				}
			}
		}
	}

	return c.DefaultLanguage()
}
