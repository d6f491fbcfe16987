// internal/heading/heading.go
package heading

import (
	"regexp"
	"strings"
	"unicode"
)

// Descriptor 场景标题解析结果（不持久化，每次读取时重新计算）
type Descriptor struct {
	SceneType string `json:"scene_type"`
	Setting   string `json:"setting"`
	TimeOfDay string `json:"time_of_day"`
}

// TimeKeywords 时间关键字，顺序即优先级
var TimeKeywords = []string{
	"DAY",
	"NIGHT",
	"DAWN",
	"DUSK",
	"MORNING",
	"EVENING",
	"AFTERNOON",
	"SUNSET",
	"SUNRISE",
}

var (
	combinedPrefixes = []string{"INT./EXT.", "EXT./INT.", "I/E.", "E/I."}
	standardPrefixes = []string{"INT.", "EXT."}
	slashPrefixes    = []string{"/INT.", "/EXT."}

	// 结尾的 "- <words>" 片段
	dashTimePattern = regexp.MustCompile(`\s*-\s*([^-]+)$`)

	keywordPatterns = compileKeywordPatterns()
)

func compileKeywordPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(TimeKeywords))
	for i, kw := range TimeKeywords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return patterns
}

// Classify 解析场景标题，提取内外景、地点和时间
// 未匹配的字段返回空字符串，不会返回错误
func Classify(raw string) Descriptor {
	var d Descriptor

	timeOfDay, dashSpan := extractDashTime(raw)
	if timeOfDay == "" {
		timeOfDay = scanKeyword(raw)
	}
	d.TimeOfDay = timeOfDay
	d.SceneType = extractType(raw)

	setting := raw
	if d.SceneType != "" {
		setting = setting[len(d.SceneType):]
	}
	if dashSpan != "" {
		setting = strings.TrimSuffix(setting, dashSpan)
	}
	setting = strings.TrimSpace(setting)
	d.Setting = strings.TrimFunc(setting, isSettingEdge)

	return d
}

// extractDashTime 返回时间短语（原始大小写）以及需要从地点中移除的匹配片段
func extractDashTime(raw string) (string, string) {
	m := dashTimePattern.FindStringSubmatch(raw)
	if m == nil {
		return "", ""
	}

	folded := strings.ToUpper(m[1])
	for _, kw := range TimeKeywords {
		if strings.Contains(folded, kw) {
			return strings.TrimSpace(m[1]), m[0]
		}
	}
	return "", ""
}

// scanKeyword 整词匹配，返回规范化的关键字
func scanKeyword(raw string) string {
	for i, p := range keywordPatterns {
		if p.MatchString(raw) {
			return TimeKeywords[i]
		}
	}
	return ""
}

func extractType(raw string) string {
	if t := matchPrefix(raw, combinedPrefixes); t != "" {
		return t
	}
	if t := matchPrefix(raw, standardPrefixes); t != "" {
		return t
	}
	if strings.HasPrefix(raw, "/") {
		return matchPrefix(raw, slashPrefixes)
	}
	return ""
}

// matchPrefix 大小写不敏感地匹配前缀，返回原文中的对应片段
func matchPrefix(raw string, prefixes []string) string {
	for _, p := range prefixes {
		if len(raw) >= len(p) && strings.EqualFold(raw[:len(p)], p) {
			return raw[:len(p)]
		}
	}
	return ""
}

func isSettingEdge(r rune) bool {
	return unicode.IsSpace(r) || r == '-' || r == '.'
}
