package domain

type Location struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}
