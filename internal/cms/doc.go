// Package cms reads site documents from a Sanity dataset.
//
// One GROQ projection fetches every document set the site renders so a content
// snapshot is a single consistent read. The raw result bytes are returned as-is
// for hashing; [DecodeDocs] turns them into typed documents.
package cms
