package auth

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/config"
)

// Identity is the verified identity of an OIDC ID token.
type Identity struct {
	UserId string
	Email  string
	Name   string
}

// OIDCAuthenticator verifies ID tokens of the configured OpenID Connect providers. Providers are discovered on
// first use and cached.
type OIDCAuthenticator struct {
	configs []config.OIDCConfig
	logger  hclog.Logger

	sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(configs []config.OIDCConfig, logger hclog.Logger) *OIDCAuthenticator {
	return &OIDCAuthenticator{
		configs:   configs,
		logger:    logger,
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}
}

func (a *OIDCAuthenticator) verifier(ctx context.Context, providerName string) (*oidc.IDTokenVerifier, error) {
	a.Lock()
	defer a.Unlock()
	if v, ok := a.verifiers[providerName]; ok {
		return v, nil
	}
	var oidcConf *config.OIDCConfig
	for i := range a.configs {
		if a.configs[i].Name == providerName {
			oidcConf = &a.configs[i]
			break
		}
	}
	if oidcConf == nil {
		a.logger.Debug("no oidc config found for provider", "provider", providerName)
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	v := provider.Verifier(&conf)
	a.verifiers[providerName] = v
	return v, nil
}

// Authenticate verifies a given OIDC ID-Token using the named provider.
// It returns nil (and no error) if the token is empty or the provider is not configured, the caller then treats
// the connection as a guest.
// The user id is the "email" claim, so it must be unique across all configured providers.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, idToken, providerName string) (*Identity, error) {
	if idToken == "" || len(a.configs) == 0 {
		return nil, nil
	}
	v, err := a.verifier(ctx, providerName)
	if err != nil || v == nil {
		return nil, err
	}
	verifiedIdToken, err := v.Verify(ctx, idToken)
	if err != nil {
		a.logger.Info("could not verify id token", "provider", providerName, "error", err)
		return nil, err
	}

	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, nil
	}
	return &Identity{UserId: claims.Email, Email: claims.Email, Name: claims.Name}, nil
}
