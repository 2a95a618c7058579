package registry

import gonanoid "github.com/matoous/go-nanoid/v2"

// GenerateConnectionId returns a random 21 character identifier.
func GenerateConnectionId() string {
	return gonanoid.Must()
}
