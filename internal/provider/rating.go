package provider

import (
	"regexp"
	"strconv"
	"strings"
)

// 影评人 fresh/rotten 图标的固定换算分。
const (
	FreshScore  = 8.0
	RottenScore = 3.0
)

var (
	reOutOf   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:/|out\s+of)\s*(\d+(?:\.\d+)?)`)
	rePercent = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	reNumber  = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParseRating 从任意评分文本中提取分数并归一化到 0–10：
//   - "x/10" 原样；"x/5" 与 "x out of 5" ×2；"x/100" 与 "x%" ÷10
//   - 其它分母按比例换算；分母为 0 时 ok=false
//   - 只有数字时：≤10 原样，>10 视为百分制 ÷10
//
// 找不到数字时 ok=false。
func ParseRating(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if m := reOutOf.FindStringSubmatch(text); m != nil {
		v, err1 := strconv.ParseFloat(m[1], 64)
		d, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || d <= 0 {
			return 0, false
		}
		if d == 10 {
			return clampTen(v), true
		}
		return clampTen(v * 10 / d), true
	}
	if m := rePercent.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return PercentToTen(v), true
		}
	}
	if m := reNumber.FindString(text); m != "" {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		if v > 10 {
			v /= 10
		}
		return clampTen(v), true
	}
	return 0, false
}

// StarsToTen 把 0–5 星换算为 0–10。
func StarsToTen(stars float64) float64 { return clampTen(stars * 2) }

// PercentToTen 把 0–100 换算为 0–10。
func PercentToTen(p float64) float64 { return clampTen(p / 10) }

func clampTen(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
