package handler

// Query is the closed set of requests the server accepts. Handle switches
// exhaustively over these types; adding a variant means handling it there.
type Query interface {
	query()
}

// Login opens a session for a user presenting their master password.
type Login struct {
	Username string
	Password string
}

// Logout invalidates the current session.
type Logout struct {
	SessionID string
	Token     string
}

// IsOpen reports whether the session is still valid and rotates the token.
type IsOpen struct {
	SessionID string
	Token     string
}

// ListKeys returns the names of all keys the user owns.
type ListKeys struct {
	SessionID string
	Token     string
}

// GetPass returns the clear value of one key.
type GetPass struct {
	SessionID string
	Token     string
	KeyName   string
}

// SetPass stores a user-chosen value for a key, creating it if needed. The
// value is sent twice to catch typing mistakes.
type SetPass struct {
	SessionID string
	Token     string
	KeyName   string
	Pass1     string
	Pass2     string
}

// PassRecipe generates a key value from a recipe and stores it.
type PassRecipe struct {
	SessionID string
	Token     string
	KeyName   string
	Recipe    string
}

// SetTag attaches a tag to an existing key.
type SetTag struct {
	SessionID string
	Token     string
	KeyName   string
	TagName   string
	TagValue  string
}

// ShowUser returns account details; admins may look at anyone, users only
// at themselves.
type ShowUser struct {
	SessionID string
	Token     string
	Username  string
}

// CreateUser makes a new account with a temporary random password, or
// resets an existing account to one. Admin only.
type CreateUser struct {
	SessionID   string
	Token       string
	Username    string
	Email       string
	Permissions string
}

// ChangePass replaces the caller's own master password.
type ChangePass struct {
	SessionID string
	Token     string
	OldPass   string
	Pass1     string
	Pass2     string
}

// Ping is a liveness probe; the reply echoes the phrase. No session needed.
type Ping struct {
	Phrase string
}

// Stop shuts the server down. Admin only.
type Stop struct {
	SessionID string
	Token     string
}

func (Login) query()      {}
func (Logout) query()     {}
func (IsOpen) query()     {}
func (ListKeys) query()   {}
func (GetPass) query()    {}
func (SetPass) query()    {}
func (PassRecipe) query() {}
func (SetTag) query()     {}
func (ShowUser) query()   {}
func (CreateUser) query() {}
func (ChangePass) query() {}
func (Ping) query()       {}
func (Stop) query()       {}

// Reply is the closed set of responses. Error is empty on success and an
// opaque message otherwise; internal reasons stay in the log.
type Reply interface {
	reply()
}

type LoginReply struct {
	Error       string
	SessionID   string
	Token       string
	Permissions string
}

type LogoutReply struct {
	Error string
}

type IsOpenReply struct {
	Error string
	Token string
	Open  bool
}

type ListReply struct {
	Error string
	Token string
	Keys  []string
}

type PassReply struct {
	Error   string
	Token   string
	KeyName string
	Pass    string
}

type TagReply struct {
	Error    string
	Token    string
	KeyName  string
	TagName  string
	TagValue string
}

type UserReply struct {
	Error    string
	Token    string
	Username string
	Password string
	Validity string
}

type PingReply struct {
	Error  string
	Phrase string
}

type StopReply struct {
	Error string
	Token string
}

func (LoginReply) reply()  {}
func (LogoutReply) reply() {}
func (IsOpenReply) reply() {}
func (ListReply) reply()   {}
func (PassReply) reply()   {}
func (TagReply) reply()    {}
func (UserReply) reply()   {}
func (PingReply) reply()   {}
func (StopReply) reply()   {}
