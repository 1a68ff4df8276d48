package game

import "sort"

// RecipeIO is a recipe input or output stack
type RecipeIO struct {
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	QualityMod bool   `json:"quality_mod,omitempty"`
}

// Recipe is a crafting recipe
type Recipe struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Category       string         `json:"category,omitempty"`
	Inputs         []RecipeIO     `json:"inputs"`
	Outputs        []RecipeIO     `json:"outputs"`
	RequiredSkills map[string]int `json:"required_skills"`
	CraftingTime   int            `json:"crafting_time"`
}

// Crafting holds known recipes and the last craft outcome
type Crafting struct {
	Recipes    []Recipe
	LastResult string
}

// SetRecipes accepts the id-keyed map sent by the server, ordered by id
func (c *Crafting) SetRecipes(byID map[string]Recipe) {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.Recipes = c.Recipes[:0]
	for _, id := range ids {
		r := byID[id]
		if r.ID == "" {
			r.ID = id
		}
		c.Recipes = append(c.Recipes, r)
	}
}

// Categories returns the sorted distinct recipe categories
func (c *Crafting) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for _, r := range c.Recipes {
		if r.Category != "" && !seen[r.Category] {
			seen[r.Category] = true
			cats = append(cats, r.Category)
		}
	}
	sort.Strings(cats)
	return cats
}
