package core

import (
	"cmp"
	"math"
	"slices"

	"yuleboard/pkg/domain"
)

// SortGifts orders gifts by ascending priority. Ties keep store order.
func SortGifts(gifts []domain.Gift) []domain.Gift {
	out := slices.Clone(gifts)
	slices.SortStableFunc(out, func(a, b domain.Gift) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

// SortFood places frozen items before non-frozen ones. Order within each group
// is store order.
func SortFood(food []domain.Food) []domain.Food {
	out := slices.Clone(food)
	slices.SortStableFunc(out, func(a, b domain.Food) int { return frozenRank(a) - frozenRank(b) })
	return out
}

func frozenRank(f domain.Food) int {
	if f.Frozen {
		return 0
	}
	return 1
}

// SortDecorations orders decorations by ascending quantity. Ties keep store
// order.
func SortDecorations(decorations []domain.Decoration) []domain.Decoration {
	out := slices.Clone(decorations)
	slices.SortStableFunc(out, func(a, b domain.Decoration) int { return cmp.Compare(a.Quantity, b.Quantity) })
	return out
}

// Sort applies the category's policy to a mixed record slice and returns a
// new slice. Records of another category keep their relative order and are
// placed after the matching ones.
func Sort(category domain.Category, records []domain.Record) []domain.Record {
	out := slices.Clone(records)
	key := sortKey(category)
	slices.SortStableFunc(out, func(a, b domain.Record) int { return cmp.Compare(key(a), key(b)) })
	return out
}

func sortKey(category domain.Category) func(domain.Record) int {
	return func(r domain.Record) int {
		switch v := r.(type) {
		case domain.Gift:
			if category == domain.CategoryGifts {
				return v.Priority
			}
		case domain.Food:
			if category == domain.CategoryFood {
				return frozenRank(v)
			}
		case domain.Decoration:
			if category == domain.CategoryDecorations {
				return v.Quantity
			}
		}
		return math.MaxInt
	}
}
