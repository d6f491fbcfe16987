// internal/heading/badge.go
package heading

import "strings"

// TimeBucket 时间徽章分组
type TimeBucket string

const (
	TimeDay     TimeBucket = "day"
	TimeNight   TimeBucket = "night"
	TimeEvening TimeBucket = "evening"
	TimeMorning TimeBucket = "morning"
	TimeDefault TimeBucket = "default"
)

// TypeBucket 内外景徽章分组
type TypeBucket string

const (
	TypeMixed    TypeBucket = "mixed"
	TypeInterior TypeBucket = "interior"
	TypeExterior TypeBucket = "exterior"
	TypeDefault  TypeBucket = "default"
)

var timeColors = map[TimeBucket]string{
	TimeDay:     "amber",
	TimeNight:   "indigo",
	TimeEvening: "orange",
	TimeMorning: "sky",
	TimeDefault: "gray",
}

var typeColors = map[TypeBucket]string{
	TypeMixed:    "purple",
	TypeInterior: "blue",
	TypeExterior: "green",
	TypeDefault:  "gray",
}

// Badge 渲染用徽章
type Badge struct {
	Label  string `json:"label"`
	Bucket string `json:"bucket"`
	Color  string `json:"color"`
}

// Badges 一个场景标题的两个徽章，字段为空时对应徽章为 nil
type Badges struct {
	Type *Badge `json:"type,omitempty"`
	Time *Badge `json:"time,omitempty"`
}

// TimeBucketOf 按子串包含关系（大小写不敏感）归类时间
func TimeBucketOf(timeOfDay string) TimeBucket {
	t := strings.ToLower(timeOfDay)
	switch {
	case t == "":
		return TimeDefault
	case strings.Contains(t, "day"):
		return TimeDay
	case strings.Contains(t, "night"):
		return TimeNight
	case containsAny(t, "evening", "dusk", "sunset"):
		return TimeEvening
	case containsAny(t, "morning", "dawn", "sunrise"):
		return TimeMorning
	default:
		return TimeDefault
	}
}

// TypeBucketOf 按是否包含 int / ext 归类内外景
func TypeBucketOf(sceneType string) TypeBucket {
	t := strings.ToLower(sceneType)
	hasInt := strings.Contains(t, "int")
	hasExt := strings.Contains(t, "ext")
	switch {
	case hasInt && hasExt:
		return TypeMixed
	case hasInt:
		return TypeInterior
	case hasExt:
		return TypeExterior
	default:
		return TypeDefault
	}
}

// BadgesFor 根据解析结果生成徽章
func BadgesFor(d Descriptor) Badges {
	var b Badges
	if d.SceneType != "" {
		bucket := TypeBucketOf(d.SceneType)
		b.Type = &Badge{Label: d.SceneType, Bucket: string(bucket), Color: typeColors[bucket]}
	}
	if d.TimeOfDay != "" {
		bucket := TimeBucketOf(d.TimeOfDay)
		b.Time = &Badge{Label: d.TimeOfDay, Bucket: string(bucket), Color: timeColors[bucket]}
	}
	return b
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
