// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package typeinfo contains code relating to Go types and their processing in
sqlprune. As much as possible, reflection code is limited to this package. It
flattens the structs and maps passed as bindings into named values, and
locates the fields that query results are scanned into.
*/
package typeinfo
