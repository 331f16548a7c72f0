// Package handler implements the server's message protocol over the vault
// and the session store.
//
// Authentication failures are opaque on the wire: the reply carries
// "Invalid credentials" or "refused" and nothing else, the specific reason
// goes to the log only. Every query carrying a valid session rotates the
// session token; the reply returns the new one.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/recipe"
	"github.com/apetrenko/keyfort/internal/session"
	"github.com/apetrenko/keyfort/internal/vault"
)

const (
	errInvalidCredentials = "Invalid credentials"
	errRefused            = "refused"

	validityFormat = "2006/01/02 15:04:05"
)

// Options tune the handler; zero values fall back to the defaults.
type Options struct {
	// TmpPasswordLength is the random byte count of generated temporary
	// passwords.
	TmpPasswordLength int
	// TmpPasswordValidity is how long a temporary password stays usable.
	TmpPasswordValidity time.Duration
	// OnStop runs when an admin issues a Stop query.
	OnStop func()
}

// Handler executes queries against the vault and the session store. It is
// not safe for concurrent use; see Dispatcher.
type Handler struct {
	log     logging.Logger
	vault   *vault.Vault
	session *session.Store

	tmpPwdLen      int
	tmpPwdValidity time.Duration
	onStop         func()

	// The last created temporary password, echoed back by ShowUser until
	// another account is created.
	lastUsername string
	lastPassword string
}

func New(log logging.Logger, v *vault.Vault, s *session.Store, opts Options) *Handler {
	if opts.TmpPasswordLength <= 0 {
		opts.TmpPasswordLength = 15
	}
	if opts.TmpPasswordValidity <= 0 {
		opts.TmpPasswordValidity = 15 * time.Minute
	}
	if opts.OnStop == nil {
		opts.OnStop = func() {}
	}
	return &Handler{
		log:            log,
		vault:          v,
		session:        s,
		tmpPwdLen:      opts.TmpPasswordLength,
		tmpPwdValidity: opts.TmpPasswordValidity,
		onStop:         opts.OnStop,
	}
}

// Handle executes one query and always produces a reply.
func (h *Handler) Handle(ctx context.Context, q Query) Reply {
	switch q := q.(type) {
	case Login:
		return h.login(ctx, q)
	case Logout:
		return h.logout(ctx, q)
	case IsOpen:
		return h.isOpen(ctx, q)
	case ListKeys:
		return h.listKeys(ctx, q)
	case GetPass:
		return h.getPass(ctx, q)
	case SetPass:
		return h.setPass(ctx, q)
	case PassRecipe:
		return h.passRecipe(ctx, q)
	case SetTag:
		return h.setTag(ctx, q)
	case ShowUser:
		return h.showUser(ctx, q)
	case CreateUser:
		return h.createUser(ctx, q)
	case ChangePass:
		return h.changePass(ctx, q)
	case Ping:
		return h.ping(ctx, q)
	case Stop:
		return h.stop(ctx, q)
	}
	h.log.Error(ctx, "unknown query type", "query", q)
	return LogoutReply{Error: errRefused}
}

// auth resolves the session and rotates its token. A nil session means the
// query must be refused with an empty token.
func (h *Handler) auth(sessionID, token string) (*session.Data, string) {
	data := h.session.Get(sessionID, token)
	if data == nil {
		return nil, ""
	}
	next, err := data.SetToken()
	if err != nil {
		// Keep the session usable with its current token.
		return data, data.Token()
	}
	return data, next
}

func (h *Handler) login(ctx context.Context, q Login) Reply {
	h.log.Info(ctx, "login", "username", q.Username)

	if q.Password == "" {
		return LoginReply{Error: errInvalidCredentials}
	}
	user, err := h.vault.Get(ctx, q.Username, q.Password)
	if err != nil {
		h.log.Warn(ctx, "login failed", "username", q.Username, "error", err)
		return LoginReply{Error: errInvalidCredentials}
	}

	data, err := h.session.Set(user)
	if err != nil {
		h.log.Error(ctx, "could not open session", "username", q.Username, "error", err)
		return LoginReply{Error: errInvalidCredentials}
	}

	permissions := "user"
	if user.IsAdmin() {
		permissions = "admin"
	}
	return LoginReply{SessionID: data.SessionID(), Token: data.Token(), Permissions: permissions}
}

func (h *Handler) logout(ctx context.Context, q Logout) Reply {
	data := h.session.Get(q.SessionID, q.Token)
	if data == nil {
		h.log.Warn(ctx, "logout: unknown session or invalid token")
	} else {
		// Opening a fresh session invalidates the current one; the new pair
		// is never revealed, so the user is effectively logged out.
		if _, err := h.session.Set(data.User()); err != nil {
			h.log.Error(ctx, "logout: could not evict session", "error", err)
		}
	}
	return LogoutReply{}
}

func (h *Handler) isOpen(ctx context.Context, q IsOpen) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Warn(ctx, "is_open: unknown session or invalid token")
		return IsOpenReply{Error: "not open"}
	}
	return IsOpenReply{Token: token, Open: true}
}

func (h *Handler) listKeys(ctx context.Context, q ListKeys) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Warn(ctx, "list query refused, unknown session or invalid token")
		return ListReply{Error: errRefused}
	}

	keys, err := data.User().Keys(ctx)
	if err != nil {
		h.log.Error(ctx, "list query refused", "username", data.User().Name(), "error", err)
		return ListReply{Error: errRefused, Token: token}
	}
	return ListReply{Token: token, Keys: keys}
}

func (h *Handler) getPass(ctx context.Context, q GetPass) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Warn(ctx, "get_pass query refused, unknown session or invalid token")
		return PassReply{Error: errRefused, KeyName: q.KeyName}
	}

	user := data.User()
	if user.IsAdmin() {
		h.log.Error(ctx, "get_pass query refused, user is admin", "username", user.Name())
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}

	key, err := user.Key(ctx, q.KeyName)
	if err != nil {
		h.log.PII(ctx, "unknown key", "username", user.Name(), "keyname", q.KeyName)
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}
	password, err := key.Password(ctx)
	if err != nil {
		h.log.PII(ctx, "key not found", "username", user.Name(), "keyname", q.KeyName)
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}

	h.log.PII(ctx, "found key", "username", user.Name(), "keyname", q.KeyName, "password", password)
	return PassReply{Token: token, KeyName: q.KeyName, Pass: password}
}

// getOrCreateKey is shared by the two set-pass variants.
func (h *Handler) getOrCreateKey(ctx context.Context, user *vault.User, keyname string) (*vault.Key, error) {
	key, err := user.Key(ctx, keyname)
	if errors.Is(err, common.ErrNotFound) {
		return user.NewKey(ctx, keyname)
	}
	return key, err
}

func (h *Handler) setPass(ctx context.Context, q SetPass) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "set_pass query refused, unknown session or invalid token")
		return PassReply{Error: errRefused, KeyName: q.KeyName}
	}

	user := data.User()
	switch {
	case user.IsAdmin():
		h.log.Error(ctx, "set_pass query refused, user is admin", "username", user.Name())
	case q.Pass1 == "" || q.Pass1 != q.Pass2:
		h.log.Error(ctx, "set_pass query refused, invalid password or password mismatch")
	default:
		key, err := h.getOrCreateKey(ctx, user, q.KeyName)
		if err != nil {
			h.log.Error(ctx, "set_pass query refused, could not create key", "error", err)
			break
		}
		if err := key.SetPassword(ctx, q.Pass1); err != nil {
			h.log.Error(ctx, "set_pass query refused, could not set password", "error", err)
			break
		}
		return PassReply{Token: token, KeyName: q.KeyName, Pass: q.Pass1}
	}
	return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
}

func (h *Handler) passRecipe(ctx context.Context, q PassRecipe) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "set_recipe_pass query refused, unknown session or invalid token")
		return PassReply{Error: errRefused, KeyName: q.KeyName}
	}

	user := data.User()
	if user.IsAdmin() {
		h.log.Error(ctx, "set_recipe_pass query refused, user is admin", "username", user.Name())
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}

	pass, err := recipe.Generate(ctx, h.log, q.Recipe)
	if err != nil {
		// Parse errors are the one case with user-facing detail; a human
		// iterates on a malformed recipe.
		var perr *recipe.ParseError
		if errors.As(err, &perr) {
			return PassReply{Error: perr.Error(), Token: token, KeyName: q.KeyName}
		}
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}

	key, err := h.getOrCreateKey(ctx, user, q.KeyName)
	if err != nil {
		h.log.Error(ctx, "set_recipe_pass query refused, could not create key", "error", err)
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}
	if err := key.SetPassword(ctx, pass); err != nil {
		h.log.Error(ctx, "set_recipe_pass query refused, could not set password", "error", err)
		return PassReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}
	return PassReply{Token: token, KeyName: q.KeyName, Pass: pass}
}

func (h *Handler) setTag(ctx context.Context, q SetTag) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "set_tag query refused, unknown session or invalid token")
		return TagReply{Error: errRefused, KeyName: q.KeyName}
	}

	user := data.User()
	if user.IsAdmin() {
		h.log.Error(ctx, "set_tag query refused, user is admin", "username", user.Name())
		return TagReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}

	key, err := user.Key(ctx, q.KeyName)
	if err != nil {
		h.log.Error(ctx, "set_tag query refused, unknown key", "keyname", q.KeyName)
		return TagReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}
	if err := key.SetTag(ctx, q.TagName, q.TagValue); err != nil {
		h.log.Error(ctx, "set_tag query refused, could not set tag", "error", err)
		return TagReply{Error: errRefused, Token: token, KeyName: q.KeyName}
	}
	return TagReply{Token: token, KeyName: q.KeyName, TagName: q.TagName, TagValue: q.TagValue}
}

func (h *Handler) showUser(ctx context.Context, q ShowUser) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "user query refused, unknown session or invalid token")
		return UserReply{Error: errRefused}
	}

	user := data.User()
	shown, err := h.vault.Get(ctx, q.Username, "")
	if err != nil || shown == nil {
		h.log.Error(ctx, "unknown user", "username", q.Username)
		return UserReply{Error: errRefused, Token: token, Username: q.Username}
	}
	if !user.IsAdmin() && user != shown {
		h.log.Error(ctx, "user query refused, not admin", "username", user.Name())
		return UserReply{Error: errRefused, Token: token, Username: q.Username}
	}

	reply := UserReply{Token: token, Username: q.Username, Validity: strValidity(shown.Validity())}
	if h.lastUsername == q.Username {
		reply.Password = h.lastPassword
	} else {
		h.lastUsername = ""
		h.lastPassword = ""
		reply.Error = errRefused
	}
	return reply
}

func (h *Handler) createUser(ctx context.Context, q CreateUser) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "user query refused, unknown session or invalid token")
		return UserReply{Error: errRefused}
	}

	user := data.User()
	if !user.IsAdmin() {
		h.log.Error(ctx, "user query refused, not admin", "username", user.Name())
		return UserReply{Error: errRefused, Token: token}
	}
	if q.Permissions != "user" {
		h.log.Error(ctx, "user permissions must be \"user\" for now", "permissions", q.Permissions)
		return UserReply{Error: errRefused, Token: token, Username: q.Username}
	}

	password, err := cryptox.RandomString32(h.tmpPwdLen)
	if err != nil {
		h.log.Error(ctx, "could not generate temporary password", "error", err)
		return UserReply{Error: errRefused, Token: token, Username: q.Username}
	}
	validity := time.Now().Add(h.tmpPwdValidity).Unix()

	target, err := h.vault.Get(ctx, q.Username, "")
	if err == nil && target != nil {
		h.log.Info(ctx, "updating user", "username", q.Username)
		// Any running session for that user dies with the password change.
		if _, err := h.session.Set(target); err != nil {
			h.log.Error(ctx, "could not evict session", "error", err)
		}
		if err := target.SetPassword(ctx, password, validity); err != nil {
			h.log.Error(ctx, "could not set password", "username", q.Username, "error", err)
			return UserReply{Error: errRefused, Token: token, Username: q.Username}
		}
	} else {
		h.log.Info(ctx, "creating new user", "username", q.Username)
		target, err = h.vault.NewUser(ctx, q.Username, password, validity)
		if err != nil {
			h.log.Error(ctx, "could not create user", "username", q.Username, "error", err)
			return UserReply{Error: errRefused, Token: token, Username: q.Username}
		}
	}

	if err := target.SetEmail(ctx, q.Email); err != nil {
		h.log.Warn(ctx, "could not set email", "username", q.Username, "error", err)
	}

	h.lastUsername = q.Username
	h.lastPassword = password

	strval := strValidity(validity)
	h.log.Info(ctx, "temporary password issued", "username", q.Username, "valid_until", strval)
	return UserReply{Token: token, Username: q.Username, Password: password, Validity: strval}
}

func (h *Handler) changePass(ctx context.Context, q ChangePass) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "user query refused, unknown session or invalid token")
		return UserReply{Error: errRefused}
	}
	if q.Pass1 == "" || q.Pass1 != q.Pass2 {
		h.log.Error(ctx, "user query refused, passwords do not match")
		return UserReply{Error: errRefused, Token: token}
	}

	user := data.User()
	check, err := h.vault.Get(ctx, user.Name(), q.OldPass)
	if err != nil {
		h.log.Error(ctx, "user query refused, bad old password", "username", user.Name())
		return UserReply{Error: errRefused, Token: token}
	}
	if check != user {
		h.log.Error(ctx, "user query refused, unexpected user mismatch", "username", user.Name())
		return UserReply{Error: errRefused, Token: token}
	}
	if user.IsAdmin() {
		h.log.Error(ctx, "user query refused, user is admin", "username", user.Name())
		return UserReply{Error: errRefused, Token: token}
	}

	if err := user.SetPassword(ctx, q.Pass1, 0); err != nil {
		h.log.Error(ctx, "could not set password", "username", user.Name(), "error", err)
		return UserReply{Error: errRefused, Token: token}
	}
	h.log.Info(ctx, "user set new password", "username", user.Name())
	return UserReply{Token: token, Username: user.Name(), Password: q.Pass1}
}

func (h *Handler) ping(ctx context.Context, q Ping) Reply {
	h.log.Info(ctx, "ping", "phrase", q.Phrase)
	return PingReply{Phrase: q.Phrase}
}

func (h *Handler) stop(ctx context.Context, q Stop) Reply {
	data, token := h.auth(q.SessionID, q.Token)
	if data == nil {
		h.log.Error(ctx, "stop query refused, unknown session or invalid token")
		return StopReply{Error: errRefused}
	}
	if !data.User().IsAdmin() {
		h.log.Error(ctx, "stop query refused, not admin", "username", data.User().Name())
		return StopReply{Error: errRefused, Token: token}
	}

	h.log.Info(ctx, "stopping on admin request", "username", data.User().Name())
	h.onStop()
	return StopReply{Token: token}
}

// strValidity renders a validity timestamp; zero means no expiry.
func strValidity(validity int64) string {
	if validity == 0 {
		return ""
	}
	return time.Unix(validity, 0).Format(validityFormat)
}
