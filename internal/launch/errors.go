package launch

import "errors"

// Trust failures. Handlers map these to 401; anything else is a 500.
var (
	// ErrInvalidState covers a state value with no matching record, a
	// state token that fails signature or expiry checks, or a state
	// missing from the browser cookies on the cookie path.
	ErrInvalidState = errors.New("launch: invalid state")

	// ErrNonceMismatch means the state record and the presented values
	// disagree about which nonce this launch belongs to.
	ErrNonceMismatch = errors.New("launch: nonce mismatch")

	// ErrUnknownNonce means the cookie-less path presented a nonce that
	// was never issued or was already consumed.
	ErrUnknownNonce = errors.New("launch: unknown nonce")

	// ErrSignatureInvalid means the id_token failed verification against
	// the resolved platform key.
	ErrSignatureInvalid = errors.New("launch: id_token signature invalid")

	// ErrTokenExpired means the id_token is outside its validity window.
	ErrTokenExpired = errors.New("launch: id_token expired")

	// ErrIncompleteLaunch means a verified id_token is missing claims the
	// tool cannot operate without.
	ErrIncompleteLaunch = errors.New("launch: incomplete launch claims")
)
