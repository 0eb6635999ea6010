package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/event-approval-api/internal/models"
)

// UserListQuery captures GET /users query parameters.
type UserListQuery struct {
	Role      string `form:"role"`
	Active    string `form:"active"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}

// Filter converts the query into a repository filter. Unknown roles and
// malformed booleans are rejected rather than ignored.
func (q UserListQuery) Filter() (models.UserFilter, error) {
	filter := models.UserFilter{
		Search:    strings.TrimSpace(q.Search),
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	}
	if q.Role != "" {
		role, err := models.ParseUserRole(q.Role)
		if err != nil {
			return models.UserFilter{}, err
		}
		filter.Role = &role
	}
	if q.Active != "" {
		active, err := strconv.ParseBool(q.Active)
		if err != nil {
			return models.UserFilter{}, fmt.Errorf("active must be a boolean, got %q", q.Active)
		}
		filter.Active = &active
	}
	return filter, nil
}
