package auth

import "strings"

// ServiceRole is the part an auth service plays in a flow, taken from the last
// segment of its profile URI.
type ServiceRole string

const (
	RoleLogin    ServiceRole = "login"
	RoleLogout   ServiceRole = "logout"
	RoleToken    ServiceRole = "token"
	RoleProbe    ServiceRole = "probe"
	RoleCookie   ServiceRole = "cookie"
	RoleExternal ServiceRole = "external"
)

// APIVersion is the IIIF Auth API generation in use by a resource.
type APIVersion string

const (
	APIVersionUnknown APIVersion = ""
	APIVersion1       APIVersion = "v1"
	APIVersion2       APIVersion = "v2"
	APIVersionMixed   APIVersion = "mixed"
)

const profilePrefix = "http://iiif.io/api/auth/"

var knownRoles = map[ServiceRole]struct{}{
	RoleLogin:    {},
	RoleLogout:   {},
	RoleToken:    {},
	RoleProbe:    {},
	RoleCookie:   {},
	RoleExternal: {},
}

// Profile is a parsed IIIF auth profile URI.
type Profile struct {
	URI     string
	Version APIVersion
	Role    ServiceRole
}

// ParseProfile recognises exactly the twelve profile URIs
// http://iiif.io/api/auth/{1,2}/{login,logout,token,probe,cookie,external}.
func ParseProfile(uri string) (Profile, bool) {
	rest, ok := strings.CutPrefix(uri, profilePrefix)
	if !ok {
		return Profile{}, false
	}
	major, role, ok := strings.Cut(rest, "/")
	if !ok {
		return Profile{}, false
	}

	var version APIVersion
	switch major {
	case "1":
		version = APIVersion1
	case "2":
		version = APIVersion2
	default:
		return Profile{}, false
	}

	r := ServiceRole(role)
	if _, known := knownRoles[r]; !known {
		return Profile{}, false
	}
	return Profile{URI: uri, Version: version, Role: r}, true
}

// Valid reports whether the profile is one of the known IIIF auth profiles.
func (p Profile) Valid() bool { return p.Version != APIVersionUnknown && p.Role != "" }

// StartsFlow reports whether a service with this profile can begin authentication.
func (p Profile) StartsFlow() bool {
	switch p.Role {
	case RoleLogin, RoleCookie, RoleToken, RoleExternal:
		return true
	default:
		return false
	}
}
