// Package tokensource performs the OAuth2 client-credentials exchange against
// the token issuer and provides a deterministic stand-in for simulation runs.
//
// # Client Credentials
//
// Use NewClientCredentials to exchange a client ID and secret for an access token:
//
//	issuer := tokensource.NewClientCredentials(tokensource.Credentials{
//		TokenURL:     "https://ims-na1.adobelogin.com/ims/token/v3",
//		ClientID:     id,
//		ClientSecret: secret,
//		Scope:        "openid,AdobeID,aem.assets",
//	})
//	grant, err := issuer.Exchange(ctx)
//
// Every Exchange call performs exactly one token request; caching is the
// caller's concern.
//
// # Custom Base Transport
//
// Configure a custom base transport or timeout for token requests:
//
//	issuer := tokensource.NewClientCredentials(creds,
//		tokensource.WithTransport(customTransport),
//		tokensource.WithTimeout(10*time.Second),
//	)
package tokensource
