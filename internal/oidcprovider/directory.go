package oidcprovider

// TestUser is an entry in the provider's fixed user directory.
type TestUser struct {
	Username          string
	Sub               string
	Email             string
	Name              string
	PreferredUsername string
}

// testUsers is the fixed directory the dummy provider authenticates
// against. No passwords; the picker just selects one.
var testUsers = map[string]TestUser{
	"admin": {
		Username:          "admin",
		Sub:               "dummy-admin-123",
		Email:             "admin@example.com",
		Name:              "Admin User",
		PreferredUsername: "admin",
	},
	"user": {
		Username:          "user",
		Sub:               "dummy-user-456",
		Email:             "user@example.com",
		Name:              "Regular User",
		PreferredUsername: "user",
	},
	"developer": {
		Username:          "developer",
		Sub:               "dummy-dev-789",
		Email:             "developer@example.com",
		Name:              "Developer User",
		PreferredUsername: "developer",
	},
}

// userinfoClaims builds the standard claim set for a directory user.
func userinfoClaims(u TestUser) map[string]any {
	return map[string]any{
		"sub":                u.Sub,
		"email":              u.Email,
		"name":               u.Name,
		"preferred_username": u.PreferredUsername,
	}
}
