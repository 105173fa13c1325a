// Command querydeck-gateway is the server side of QueryDeck.
//
// It holds the database session opened on behalf of CLI clients, stores
// per-caller sealed credentials and connection profiles, and serves the
// /ws live channel.
//
//	querydeck-gateway keygen                 # print a new server key
//	querydeck-gateway --config gw.yaml serve
//	querydeck-gateway --config gw.yaml check
package main
