// Package repl is the interactive query shell of querydeck-cli.
//
// Each input line is either a backslash meta command or a query sent to
// the connected database through an Executor:
//
//	\dt          list tables
//	\d TABLE     describe a table
//	\s           show history
//	\?           help
//	\q           quit (also: exit, quit, EOF)
//
// A query may span lines and ends with a semicolon. History persists to
// ~/.querydeck/history between runs.
package repl
