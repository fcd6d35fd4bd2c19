package authz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cadenzahq/clearway/pkg/observability"
	"github.com/cadenzahq/clearway/pkg/tenants"
)

// Policy is the operator-editable authorization policy. It names the checks
// the platform admin role may bypass and the module each role is granted by
// default when a membership carries no explicit grant list.
type Policy struct {
	// AdminBypass lists the module permissions a platform admin passes
	// without a tenant membership. The list is explicit: an admin hits the
	// same denials as everyone else for anything not named here.
	AdminBypass []ModulePermission `yaml:"admin_bypass"`

	// RoleDefaults maps a tenant role to the modules it gets when the
	// membership row has no allowed_modules of its own.
	RoleDefaults map[tenants.Role][]tenants.Module `yaml:"role_defaults"`
}

// BypassAllows reports whether the policy lets a platform admin skip the
// membership check for a permission
func (p *Policy) BypassAllows(perm ModulePermission) bool {
	for _, allowed := range p.AdminBypass {
		if allowed == perm {
			return true
		}
	}
	return false
}

// DefaultModulesFor returns the policy's default module grants for a role
func (p *Policy) DefaultModulesFor(role tenants.Role) []tenants.Module {
	return p.RoleDefaults[role]
}

// Validate rejects policies that name unknown permissions or modules
func (p *Policy) Validate() error {
	for _, perm := range p.AdminBypass {
		if !perm.Valid() {
			return fmt.Errorf("admin_bypass names unknown permission %q", perm)
		}
	}
	for role, modules := range p.RoleDefaults {
		if !role.Valid() {
			return fmt.Errorf("role_defaults names unknown role %q", role)
		}
		for _, mod := range modules {
			switch mod {
			case tenants.ModuleLicensing, tenants.ModulePublishing, tenants.ModuleRoyalties, tenants.ModuleHelpCenter:
			default:
				return fmt.Errorf("role_defaults for %q names unknown module %q", role, mod)
			}
		}
	}
	return nil
}

// DefaultPolicy is the policy used when no policy file is configured
func DefaultPolicy() *Policy {
	return &Policy{
		AdminBypass: []ModulePermission{PermConsoleAccess, PermHelpCenterManage},
		RoleDefaults: map[tenants.Role][]tenants.Module{
			tenants.RoleOwner:  {tenants.ModuleLicensing, tenants.ModulePublishing, tenants.ModuleRoyalties, tenants.ModuleHelpCenter},
			tenants.RoleAdmin:  {tenants.ModuleLicensing, tenants.ModulePublishing, tenants.ModuleRoyalties},
			tenants.RoleStaff:  {tenants.ModuleLicensing, tenants.ModulePublishing},
			tenants.RoleClient: {tenants.ModuleLicensing},
		},
	}
}

// LoadPolicy reads and validates a policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}
	return &policy, nil
}

// PolicyWatcher serves the current policy and hot-reloads it when the file
// changes. A broken edit never takes effect; the last good policy stays
// live and the error is logged.
type PolicyWatcher struct {
	path   string
	logger *observability.Logger

	mu      sync.RWMutex
	current *Policy
}

// NewPolicyWatcher loads the initial policy from path. An empty path yields
// a watcher pinned to the default policy.
func NewPolicyWatcher(path string, logger *observability.Logger) (*PolicyWatcher, error) {
	w := &PolicyWatcher{path: path, logger: logger, current: DefaultPolicy()}
	if path == "" {
		return w, nil
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	w.current = policy
	return w, nil
}

// Current returns the live policy
func (w *PolicyWatcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch blocks reloading the policy on file changes until ctx is done
func (w *PolicyWatcher) Watch(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save and
	// the watch on the old inode would go stale.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("policy watcher error")
		}
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("policy reload failed, keeping last good policy")
		return
	}
	w.mu.Lock()
	w.current = policy
	w.mu.Unlock()
	w.logger.WithField("path", w.path).Info("policy reloaded")
}
