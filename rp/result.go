package rp

// Result is the non-fatal outcome of Extract: Authenticated, Unauthenticated
// or Respond.
type Result interface {
	result()
}

// Authenticated carries credentials for profile creation.
type Authenticated struct {
	Credentials Credentials
}

// Unauthenticated means the provider answered with an error. It is not fatal.
type Unauthenticated struct {
	Error ErrorObject
}

// Respond is a complete HTTP answer the host writes back as is. Cause is set
// when Status reports a rejected request.
type Respond struct {
	Status int
	Body   string
	Cause  error
}

func (Authenticated) result()   {}
func (Unauthenticated) result() {}
func (Respond) result()         {}
