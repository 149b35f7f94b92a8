package domain

// Address is a postal address used for shipping, billing and tax lookup.
type Address struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty" validate:"max=30"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

// Clone returns a copy of a, or nil.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// SameAs reports whether two possibly nil addresses are equal.
func (a *Address) SameAs(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
