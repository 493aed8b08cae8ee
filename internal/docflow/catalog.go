package docflow

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type Protocol string

const (
	ProtocolStatusPost      Protocol = "status-post"
	ProtocolRoleEndpoint    Protocol = "role-endpoint"
	ProtocolApprovalSummary Protocol = "approval-summary"
)

type DashboardMode string

const (
	DashboardApproval DashboardMode = "approval"
	DashboardList     DashboardMode = "list"
	// DashboardAssigned lists only what is assigned to the user. ListPath may use {actor},
	// {dashboardRole}, {userId} and {kansaiId}.
	DashboardAssigned DashboardMode = "assigned"
)

type DashboardSpec struct {
	Mode     DashboardMode `yaml:"mode"`
	BasePath string        `yaml:"basePath,omitempty"`
	ListPath string        `yaml:"listPath,omitempty"`
}

// NeedsKansaiID reports whether the list path is keyed by the Kansai employee id.
func (d DashboardSpec) NeedsKansaiID() bool {
	return strings.Contains(d.ListPath, "{kansaiId}")
}

// AssignedPath fills the assigned-mode list path for one role and user.
func (d DashboardSpec) AssignedPath(role Role, userID, kansaiID string) string {
	return strings.NewReplacer(
		"{actor}", url.PathEscape(role.Actor()),
		"{dashboardRole}", url.PathEscape(role.DashboardRole()),
		"{userId}", url.PathEscape(userID),
		"{kansaiId}", url.PathEscape(kansaiID),
	).Replace(d.ListPath)
}

// KindSpec is one entry of the catalogue.
type KindSpec struct {
	Kind           Kind          `yaml:"kind"`
	Name           string        `yaml:"name"`
	NumberLabel    string        `yaml:"numberLabel,omitempty"`
	Subtypes       []string      `yaml:"subtypes,omitempty"`
	DetailPath     string        `yaml:"detailPath"`
	Protocol       Protocol      `yaml:"protocol"`
	StatusPath     string        `yaml:"statusPath,omitempty"`
	ActionBase     string        `yaml:"actionBase,omitempty"`
	ApprovalPath   string        `yaml:"approvalPath,omitempty"`
	ApprovalMethod string        `yaml:"approvalMethod,omitempty"`
	Dashboard      DashboardSpec `yaml:"dashboard"`
	Roles          []Role        `yaml:"roles"`
	Create         *CreateSpec   `yaml:"create,omitempty"`
}

type Catalog struct {
	Entries []KindSpec `yaml:"kinds"`
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a catalogue file. An empty path or a missing file yields the embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultCatalog()
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) Validate() error {
	if len(c.Entries) == 0 {
		return errors.New("catalog has no kinds")
	}
	seen := map[Kind]struct{}{}
	for i := range c.Entries {
		k := &c.Entries[i]
		if k.Kind == "" {
			return fmt.Errorf("catalog entry %d: kind is required", i)
		}
		if _, dup := seen[k.Kind]; dup {
			return fmt.Errorf("catalog: duplicate kind %q", k.Kind)
		}
		seen[k.Kind] = struct{}{}
		if k.Name == "" {
			k.Name = string(k.Kind)
		}
		if k.DetailPath == "" {
			return fmt.Errorf("kind %s: detailPath is required", k.Kind)
		}
		switch k.Protocol {
		case ProtocolStatusPost:
			if k.StatusPath == "" {
				return fmt.Errorf("kind %s: statusPath is required for %s", k.Kind, k.Protocol)
			}
		case ProtocolRoleEndpoint:
			if k.ActionBase == "" {
				return fmt.Errorf("kind %s: actionBase is required for %s", k.Kind, k.Protocol)
			}
		case ProtocolApprovalSummary:
			if k.ApprovalPath == "" {
				return fmt.Errorf("kind %s: approvalPath is required for %s", k.Kind, k.Protocol)
			}
			k.ApprovalMethod = strings.ToUpper(strings.TrimSpace(k.ApprovalMethod))
			if k.ApprovalMethod == "" {
				k.ApprovalMethod = http.MethodPatch
			}
			if k.ApprovalMethod != http.MethodPatch && k.ApprovalMethod != http.MethodPut {
				return fmt.Errorf("kind %s: approvalMethod must be PATCH or PUT", k.Kind)
			}
		default:
			return fmt.Errorf("kind %s: unknown protocol %q", k.Kind, k.Protocol)
		}
		switch k.Dashboard.Mode {
		case DashboardApproval:
			if k.Dashboard.BasePath == "" {
				return fmt.Errorf("kind %s: dashboard.basePath is required", k.Kind)
			}
		case DashboardList, DashboardAssigned:
			if k.Dashboard.ListPath == "" {
				return fmt.Errorf("kind %s: dashboard.listPath is required", k.Kind)
			}
		default:
			return fmt.Errorf("kind %s: unknown dashboard mode %q", k.Kind, k.Dashboard.Mode)
		}
		if k.Create != nil && (k.Create.Path == "" || k.Create.LinesField == "") {
			return fmt.Errorf("kind %s: create needs path and linesField", k.Kind)
		}
		if len(k.Roles) == 0 {
			return fmt.Errorf("kind %s: at least one role is required", k.Kind)
		}
		for _, r := range k.Roles {
			if !r.Valid() {
				return fmt.Errorf("kind %s: unknown role %q", k.Kind, r)
			}
		}
	}
	return nil
}

func (c *Catalog) Kind(k Kind) (*KindSpec, bool) {
	for i := range c.Entries {
		if c.Entries[i].Kind == k {
			return &c.Entries[i], true
		}
	}
	return nil, false
}

func (c *Catalog) Kinds() []*KindSpec {
	out := make([]*KindSpec, 0, len(c.Entries))
	for i := range c.Entries {
		out = append(out, &c.Entries[i])
	}
	return out
}

// KindsForRole returns the kinds a role can act on, in catalogue order.
func (c *Catalog) KindsForRole(role Role) []*KindSpec {
	var out []*KindSpec
	for i := range c.Entries {
		if c.Entries[i].HasRole(role) {
			out = append(out, &c.Entries[i])
		}
	}
	return out
}

// Creatable returns the kinds preparers can start from the portal.
func (c *Catalog) Creatable() []*KindSpec {
	var out []*KindSpec
	for i := range c.Entries {
		if c.Entries[i].Create != nil {
			out = append(out, &c.Entries[i])
		}
	}
	return out
}

func (k *KindSpec) HasRole(role Role) bool {
	for _, r := range k.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Subtype resolves a requested subtype against the kind's list, falling back to the first.
func (k *KindSpec) Subtype(raw string) string {
	if len(k.Subtypes) == 0 {
		return ""
	}
	want := strings.ToLower(strings.TrimSpace(raw))
	switch want {
	case "i":
		want = "item"
	case "s":
		want = "service"
	}
	for _, s := range k.Subtypes {
		if s == want {
			return s
		}
	}
	return k.Subtypes[0]
}

func (k *KindSpec) DetailURL(id, subtype string) string {
	return expandPath(k.DetailPath, id, k.Subtype(subtype))
}

func expandPath(tmpl, id, subtype string) string {
	out := strings.ReplaceAll(tmpl, "{id}", url.PathEscape(id))
	return strings.ReplaceAll(out, "{type}", url.PathEscape(subtype))
}
