package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const driveScope = "https://www.googleapis.com/auth/drive.readonly"

func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}
	config, err := google.ConfigFromJSON(b, driveScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %v", err)
	}
	return config, nil
}

// accessToken returns a valid token from the cache, refreshing and saving it
// when it expired. Workers never prompt; Authorize fills the cache.
func accessToken(ctx context.Context, credentialsFile, tokenFile string) (string, error) {
	config, err := oauthConfig(credentialsFile)
	if err != nil {
		return "", err
	}
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("no cached Google token at %s, run `danzod gdrive-auth` first", tokenFile)
	}
	if token.Valid() {
		return token.AccessToken, nil
	}
	if token.RefreshToken == "" {
		return "", fmt.Errorf("OAuth token is expired and cannot be refreshed")
	}
	fresh, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return "", fmt.Errorf("unable to refresh token: %v", err)
	}
	if err := saveToken(tokenFile, fresh); err != nil {
		log.Warn().Str("op", "gdrive/auth").Msgf("unable to save refreshed token: %v", err)
	}
	return fresh.AccessToken, nil
}

// Authorize runs the consent flow on the terminal and caches the token.
func Authorize(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) error {
	config, err := oauthConfig(credentialsFile)
	if err != nil {
		return err
	}
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Visit this URL to get the authorization code:\n%s\n\nAfter authorizing, enter the authorization code: ", authURL)
	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return fmt.Errorf("unable to read authorization code: %v", err)
	}
	token, err := config.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return fmt.Errorf("unable to exchange auth code for token: %v", err)
	}
	log.Debug().Str("op", "gdrive/auth").Msgf("exchanged auth code, caching token at %s", tokenFile)
	return saveToken(tokenFile, token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

func saveToken(file string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return fmt.Errorf("unable to create token directory: %v", err)
	}
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %v", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to encode token: %v", err)
	}
	return nil
}
