package repospawn

// Session identifies one user and one target repository.
//
// ContainerID is a weak reference to the container started by the last
// successful attempt. Start clears it when the runtime no longer knows the
// container and replaces it when a new one is started. Session carries no
// locks: the host allows at most one in-flight attempt per Session.
type Session struct {
	User        string
	RepoURL     string
	ContainerID string

	// escaped tokens, computed once per source value
	userToken, userSource string
	repoToken, repoSource string
}

// EscapedUser returns Escape(s.User), computed once and reused.
func (s *Session) EscapedUser() string {
	if s.userToken == "" || s.userSource != s.User {
		s.userSource = s.User
		s.userToken = Escape(s.User)
	}
	return s.userToken
}

// EscapedRepo returns Escape(s.RepoURL), computed once and reused.
func (s *Session) EscapedRepo() string {
	if s.repoToken == "" || s.repoSource != s.RepoURL {
		s.repoSource = s.RepoURL
		s.repoToken = Escape(s.RepoURL)
	}
	return s.repoToken
}
