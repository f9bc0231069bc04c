// Package config loads the stream client configuration from YAML.
//
// Environment variables in the form ${VAR} are expanded before parsing, so
// secrets such as the access token and database password can stay out of
// the file:
//
//	api:
//	  md_url: wss://md-demo.tradovateapi.com/v1/websocket
//	  token: ${TRADOVATE_MD_TOKEN}
//	subscriptions:
//	  quotes: [ESZ6, NQZ6]
package config
