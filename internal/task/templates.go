package task

// Template is a suggested chore with a default point value.
type Template struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Templates returns the built-in chore catalog offered when a household sets
// up its first tasks.
func Templates() []Template {
	return []Template{
		{"Take out the trash", 3},
		{"Clean the bathroom", 8},
		{"Scrub the shower", 6},
		{"Unload the dishwasher", 3},
		{"Load the dishwasher", 2},
		{"Do the laundry", 5},
		{"Hang up the laundry", 4},
		{"Fold the laundry", 5},
		{"Clean the kitchen", 7},
		{"Vacuum", 6},
		{"Mop the floors", 7},
		{"Change the sheets", 5},
		{"Water the plants", 2},
		{"Do the grocery run", 8},
		{"Cook dinner", 10},
		{"Wash the dishes", 4},
		{"Clean the windows", 10},
		{"Wash the car", 8},
		{"Drop off a package", 5},
		{"Take out the recycling", 3},
	}
}
