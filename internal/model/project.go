package model

import "time"

// DefaultInvestigatorRole is used when a link carries no role.
const DefaultInvestigatorRole = "investigator"

// Project is a funded research project keyed by its grant number.
type Project struct {
	GrantNumber  string    `json:"grant_number" yaml:"grant_number"`
	Title        string    `json:"title" yaml:"title"`
	Organization string    `json:"organization,omitempty" yaml:"organization,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// Investigator is a person attached to one or more projects.
type Investigator struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// ProjectInvestigator links an investigator to a project.
type ProjectInvestigator struct {
	GrantNumber    string `json:"grant_number"`
	InvestigatorID string `json:"investigator_id"`
	Role           string `json:"role"`
}

// ProjectField is the current value of one metadata field on a project.
type ProjectField struct {
	ProjectID string     `json:"project_id"`
	FieldName string     `json:"field_name"`
	Value     FieldValue `json:"value"`
	UpdatedAt time.Time  `json:"updated_at"`
}
