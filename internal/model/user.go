package model

// User is a backend account. SpcOwners holds the accounts this user
// supervises; wards do not have wards of their own.
type User struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Courses      []Course `json:"courses"`
	SpcSerials   []string `json:"spcSerialNumberList"`
	IsDependent  bool     `json:"isDependent"`
	HasCaretaker bool     `json:"hasCaretaker"`
	SpcOwners    []User   `json:"spcOwners"`
}

// All returns the user followed by every ward, the traversal order the whole
// client relies on.
func (u *User) All() []*User {
	if u == nil {
		return nil
	}
	users := make([]*User, 0, 1+len(u.SpcOwners))
	users = append(users, u)
	for i := range u.SpcOwners {
		users = append(users, &u.SpcOwners[i])
	}
	return users
}

// Find returns the family member with the given id, or nil.
func (u *User) Find(id int64) *User {
	for _, member := range u.All() {
		if member.ID == id {
			return member
		}
	}
	return nil
}
