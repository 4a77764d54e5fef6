package models

import "strings"

// Status is an entry of the fixed workflow catalog.
type Status struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	NormalizedName string `db:"normalized_name" json:"normalized_name"`
}

// StatusIncoming is the normalized name every new report starts in.
const StatusIncoming = "INCOMING"

// SeedStatusNames is the catalog installed at startup.
var SeedStatusNames = []string{"Incoming", "In progress", "Resolved", "Rejected", "Blocked"}

// NormalizeStatusName upper-cases name and replaces spaces with underscores.
func NormalizeStatusName(name string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), " ", "_")
}
