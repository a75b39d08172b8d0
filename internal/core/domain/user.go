package domain

type Role string

const (
	RoleSeller     Role = "SELLER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSeller, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type User struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email"`
	RUT       string `json:"rut,omitempty"`
	Role      Role   `json:"role"`
	Password  string `json:"password,omitempty"`
	Disabled  bool   `json:"disabled"`
	DeletedAt *int64 `json:"deletedAt,omitempty"`
}

// Public strips the password hash.
func (u User) Public() User {
	u.Password = ""
	return u
}

func (u User) Identity() Identity {
	return Identity{
		ID:       u.ID,
		Name:     u.Name,
		LastName: u.LastName,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// Identity is the authenticated caller, as carried by the bearer token.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	LastName string `json:"lastName,omitempty"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}
