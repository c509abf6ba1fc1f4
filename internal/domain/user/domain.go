package user

import "strconv"

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStudent  Role = "STUDENT"
	RoleLecturer Role = "LECTURER"
	RoleStaff    Role = "STAFF"
)

// CurrentUser is the caller identity supplied by the auth layer on every request.
// MajorID is set for students, DepartmentID for lecturers.
type CurrentUser struct {
	ID           int64  `json:"id"`
	Role         Role   `json:"role"`
	MajorID      *int64 `json:"major_id,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

func (u CurrentUser) IsStudent() bool  { return u.Role == RoleStudent }
func (u CurrentUser) IsLecturer() bool { return u.Role == RoleLecturer }
func (u CurrentUser) IsAdmin() bool    { return u.Role == RoleAdmin }

func (u CurrentUser) IDString() string { return strconv.FormatInt(u.ID, 10) }
