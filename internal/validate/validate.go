package validate

import (
	"fmt"
	"regexp"
)

// Text field length limits, shared with clients via /api/limits.
const (
	MaxCommentBodyLength  = 2000
	MaxCategoryNameLength = 50
	MaxSearchQueryLength  = 200
	MaxNameLength         = 200
	MaxReasonLength       = 200
)

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func CommentBody(s string) string  { return checkLen(s, MaxCommentBodyLength, "comment") }
func CategoryName(s string) string { return checkLen(s, MaxCategoryNameLength, "category name") }
func SearchQuery(s string) string  { return checkLen(s, MaxSearchQueryLength, "search query") }
func DisplayName(s string) string  { return checkLen(s, MaxNameLength, "name") }
func SpendReason(s string) string  { return checkLen(s, MaxReasonLength, "reason") }

// CategoryColor accepts #RRGGBB only.
func CategoryColor(s string) string {
	if !hexColorRe.MatchString(s) {
		return "color must be a hex value like #3366ff"
	}
	return ""
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"commentBody":  MaxCommentBodyLength,
		"categoryName": MaxCategoryNameLength,
		"searchQuery":  MaxSearchQueryLength,
		"name":         MaxNameLength,
		"reason":       MaxReasonLength,
	}
}
