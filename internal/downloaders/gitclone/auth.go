package gitclone

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/rs/zerolog/log"
)

// getAuthMethod returns nil when the clone should run anonymously.
func getAuthMethod(repoURL, token, sshKeyPath string) (transport.AuthMethod, error) {
	if isSSHURL(repoURL) {
		if sshKeyPath == "" {
			return nil, nil
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("couldn't load SSH key: %v", err)
		}
		return publicKeys, nil
	}
	if token == "" {
		return nil, nil
	}
	log.Debug().Str("op", "gitclone/auth").Msg("token found")
	username := "oauth2"
	if strings.Contains(repoURL, "bitbucket.org") {
		username = "x-token-auth"
	}
	return &http.BasicAuth{Username: username, Password: token}, nil
}

func isSSHURL(repoURL string) bool {
	return strings.HasPrefix(repoURL, "git@") || strings.HasPrefix(repoURL, "ssh://")
}
