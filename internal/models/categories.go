package models

import "slices"

// CategoryDebt marks an expense that records a loan rather than shared spending.
const CategoryDebt = "Debt"

// Category is a selectable expense tag.
type Category struct {
	Name  string
	Emoji string
}

// Categories is the fixed list offered on the description step.
var Categories = []Category{
	{Name: "Groceries", Emoji: "🛒"},
	{Name: "Food", Emoji: "🍔"},
	{Name: "Hygiene", Emoji: "🧼"},
	{Name: "Water", Emoji: "💧"},
	{Name: "Bread", Emoji: "🍞"},
	{Name: "Wifi", Emoji: "🌐"},
	{Name: "Gas", Emoji: "🔥"},
	{Name: "Electricity", Emoji: "💡"},
	{Name: CategoryDebt, Emoji: "💸"},
	{Name: "Other", Emoji: "📦"},
}

// IsCategory reports whether name is a known category.
func IsCategory(name string) bool {
	return slices.ContainsFunc(Categories, func(c Category) bool { return c.Name == name })
}

// IsPureDebt reports whether categories is exactly ["Debt"].
func IsPureDebt(categories []string) bool {
	return len(categories) == 1 && categories[0] == CategoryDebt
}

// ToggleCategory adds or removes name. "Debt" is exclusive: selecting it clears the others,
// and selecting another category clears "Debt".
func ToggleCategory(categories []string, name string) []string {
	if i := slices.Index(categories, name); i >= 0 {
		return slices.Delete(slices.Clone(categories), i, i+1)
	}
	if name == CategoryDebt {
		return []string{CategoryDebt}
	}
	out := slices.DeleteFunc(slices.Clone(categories), func(c string) bool { return c == CategoryDebt })
	return append(out, name)
}
