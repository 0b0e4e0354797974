package roles

import (
	"sort"
	"strings"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
)

// roleForm is the submitted create/edit form.
type roleForm struct {
	Name        string `validate:"required,max=255"`
	Permissions []string
}

// Selected reports whether perm is ticked in the form.
func (f roleForm) Selected(perm string) bool {
	for _, p := range f.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

type roleRow struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	PermissionsCount int                `json:"permissions_count"`
	Protected        bool               `json:"protected"`
	CreatedAt        string             `json:"created_at"`
	Action           []shared.RowAction `json:"action"`
}

// filterRoles applies data-table search, ordering and paging to summaries.
func filterRoles(all []rbac.RoleSummary, req shared.TableRequest) ([]rbac.RoleSummary, int) {
	var matched []rbac.RoleSummary
	needle := strings.ToLower(req.Search)
	for _, s := range all {
		if needle == "" || strings.Contains(strings.ToLower(s.Name), needle) {
			matched = append(matched, s)
		}
	}
	asc := req.Direction() == "ASC"
	switch req.OrderBy {
	case "name":
		sort.SliceStable(matched, func(i, j int) bool {
			if asc {
				return matched[i].Name < matched[j].Name
			}
			return matched[i].Name > matched[j].Name
		})
	case "permissions_count":
		sort.SliceStable(matched, func(i, j int) bool {
			if asc {
				return matched[i].PermissionCount < matched[j].PermissionCount
			}
			return matched[i].PermissionCount > matched[j].PermissionCount
		})
	default:
		sort.SliceStable(matched, func(i, j int) bool {
			if asc {
				return matched[i].CreatedAt.Before(matched[j].CreatedAt)
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
	}
	filtered := len(matched)
	if req.Start >= filtered {
		return nil, filtered
	}
	end := req.Start + req.Length
	if end > filtered {
		end = filtered
	}
	return matched[req.Start:end], filtered
}
