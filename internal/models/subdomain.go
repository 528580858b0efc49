package models

import "time"

// Subdomain types. A project subdomain lives under the owner's username
// namespace; a username subdomain claims the user's own label at the apex.
const (
	SubdomainTypeProject  = "project"
	SubdomainTypeUsername = "username"
)

// Subdomain maps a public DNS label to a port on the owner's container.
// Names are unique platform-wide regardless of owner.
type Subdomain struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Subdomain     string    `json:"subdomain"`
	TargetPort    int       `json:"target_port"`
	SubdomainType string    `json:"subdomain_type"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FullName returns the complete public hostname for the subdomain under the
// given platform domain.
func (s *Subdomain) FullName(username, domain string) string {
	if s.SubdomainType == SubdomainTypeUsername {
		return s.Subdomain + "." + domain
	}
	return s.Subdomain + "." + username + "." + domain
}
