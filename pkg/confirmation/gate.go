package confirmation

import (
	"fmt"
	"sort"
	"strings"
)

// ActionType identifies the kind of destructive action awaiting confirmation.
type ActionType string

const (
	BillCreation ActionType = "bill_creation"
	ItemDeletion ActionType = "item_deletion"
	Unknown      ActionType = "unknown"
)

// Reply is the interpretation of a user's answer to a confirmation prompt.
type Reply int

const (
	Invalid Reply = iota
	Yes
	No
)

func (r Reply) String() string {
	switch r {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "invalid"
	}
}

var (
	billKeywords      = []string{"create", "bill", "invoice"}
	deletionKeywords  = []string{"delete", "remove", "item"}
	yesKeywords       = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "confirm"}
	noKeywords        = []string{"no", "nope", "cancel", "don't", "dont", "never"}
	detailPunctuation = "?.!,;:\"'"
)

// IsDestructive reports whether text (or the optional hint) describes a bill
// creation or an item deletion.
func IsDestructive(text, intentHint string) bool {
	lower := strings.ToLower(text)
	if containsAll(lower, billKeywords) || containsAny(lower, deletionKeywords) {
		return true
	}

	hint := strings.ToLower(intentHint)
	if hint == "" {
		return false
	}
	return containsAny(hint, []string{"delete", "remove"}) ||
		(strings.Contains(hint, "bill") && strings.Contains(hint, "create"))
}

// ParseResponse interprets a reply. Yes keywords are checked before no keywords.
func ParseResponse(text string) Reply {
	t := strings.TrimSpace(strings.ToLower(text))
	if t == "" {
		return Invalid
	}
	if containsAny(t, yesKeywords) {
		return Yes
	}
	if containsAny(t, noKeywords) {
		return No
	}
	return Invalid
}

// DeriveActionType classifies the action from the tool names the model
// called, falling back to the user text when no tool was called.
func DeriveActionType(toolNames []string, text string) ActionType {
	if len(toolNames) > 0 {
		for _, name := range toolNames {
			if containsAny(strings.ToLower(name), billKeywords) {
				return BillCreation
			}
		}
		for _, name := range toolNames {
			if containsAny(strings.ToLower(name), []string{"delete", "remove"}) {
				return ItemDeletion
			}
		}
		return Unknown
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, []string{"bill", "invoice"}):
		return BillCreation
	case containsAny(lower, deletionKeywords):
		return ItemDeletion
	default:
		return Unknown
	}
}

// ExtractDetails pulls the fields the confirmation prompt needs from the
// first tool call's arguments. Item deletions fall back to the words after
// "item" in the user text.
func ExtractDetails(action ActionType, args map[string]interface{}, text string) map[string]interface{} {
	details := map[string]interface{}{}

	switch action {
	case BillCreation:
		if v, ok := firstOf(args, "customer", "customer_name"); ok {
			details["customer"] = v
		}
		if v, ok := firstOf(args, "total", "amount"); ok {
			details["total"] = v
		}
		if v, ok := firstOf(args, "items"); ok {
			details["items"] = v
		}
	case ItemDeletion:
		if v, ok := firstOf(args, "item", "item_name", "name", "id"); ok {
			details["item"] = v
		} else if item := itemFromText(text); item != "" {
			details["item"] = item
		}
	}

	return details
}

// GeneratePrompt renders the confirmation question for action. Missing
// details fall back to generic wording.
func GeneratePrompt(action ActionType, details map[string]interface{}) string {
	switch action {
	case BillCreation:
		customer := detailString(details, "customer", "the customer")
		items := itemsString(details["items"])
		total := detailString(details, "total", "?")
		return fmt.Sprintf("You are about to create a bill for %s with %s (total: %s). Do you want to proceed? Reply 'yes' or 'no'.",
			customer, items, total)
	case ItemDeletion:
		item := detailString(details, "item", "this item")
		return fmt.Sprintf("You are about to delete %s. This cannot be undone. Do you want to proceed? Reply 'yes' or 'no'.", item)
	default:
		return "This action cannot be undone. Do you want to proceed? Reply 'yes' or 'no'."
	}
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func firstOf(args map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := args[key]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

func itemFromText(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if strings.ToLower(strings.Trim(f, detailPunctuation)) == "item" && i+1 < len(fields) {
			return strings.Trim(strings.Join(fields[i+1:], " "), detailPunctuation)
		}
	}
	return ""
}

func detailString(details map[string]interface{}, key, fallback string) string {
	v, ok := details[key]
	if !ok || v == nil {
		return fallback
	}
	s := formatValue(v)
	if s == "" {
		return fallback
	}
	return s
}

func itemsString(v interface{}) string {
	switch items := v.(type) {
	case nil:
		return "items"
	case []interface{}:
		names := make([]string, 0, len(items))
		for _, item := range items {
			if s := formatValue(item); s != "" {
				names = append(names, s)
			}
		}
		if len(names) == 0 {
			return "items"
		}
		return strings.Join(names, ", ")
	case []string:
		if len(items) == 0 {
			return "items"
		}
		return strings.Join(items, ", ")
	default:
		if s := formatValue(v); s != "" {
			return s
		}
		return "items"
	}
}

// formatValue renders detail values; item objects use their name and quantity.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%g", t)
	case map[string]interface{}:
		name, _ := firstOf(t, "name", "item", "item_name", "id")
		if name == nil {
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
			}
			return strings.Join(parts, " ")
		}
		if qty, ok := firstOf(t, "quantity", "qty"); ok {
			return fmt.Sprintf("%v x %v", qty, name)
		}
		return fmt.Sprint(name)
	default:
		return fmt.Sprint(v)
	}
}
