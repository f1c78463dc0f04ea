// Package model provides the record types shared by every swipematch package.
//
// This package contains type definitions and their invariants only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Vote types and room statuses are closed string enums; use Valid() before
//     trusting input and switch exhaustively on them
//   - Counts are int64, never floats
//   - All JSON tags use snake_case except the change-feed image, which mirrors
//     the camelCase attributes written by the API edge
package model
