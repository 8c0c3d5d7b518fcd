package session

// Routes the guard knows about.
const (
	RouteHome   = "/"
	RouteSignIn = "/sign-in"
	RouteSignUp = "/sign-up"
)

// IsPublicRoute reports whether path is reachable without a session.
func IsPublicRoute(path string) bool {
	return path == RouteSignIn || path == RouteSignUp
}

// Guard returns where a visit to path must be redirected, or "" when it may
// proceed. Only a remotely confirmed session opens private routes; a signed-in
// user visiting sign-in or sign-up is sent home.
func Guard(s Snapshot, path string) string {
	public := IsPublicRoute(path)
	switch {
	case s.IsAuthenticated() && public:
		return RouteHome
	case !s.IsAuthenticated() && !public:
		return RouteSignIn
	default:
		return ""
	}
}
