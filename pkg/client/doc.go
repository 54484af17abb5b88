/*
Package client is a small Go client for the Beacon HTTP API, used by the
beacon CLI.

	c, err := client.NewClient("https://beacon.example.com", client.Options{
		CAFile: "/etc/beacon/ca.crt",
	})
	if _, err := c.Login("ops", password); err != nil {
		return err
	}
	key, err := c.IssueKey("race")

Every call is bounded by Options.Timeout (10s by default). Non-2xx responses
come back as *APIError, which unwraps to types.ErrAuthenticationFailed (401,
403), types.ErrNotFound (404) or types.ErrMalformedInput (400).

The CLI keeps the admin session token in ~/.beacon/token (TokenPath,
SaveToken, LoadToken).
*/
package client
