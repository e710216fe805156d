// Package http wraps HTTP operations against the historical-data host.
//
// The source serves every trading day's files under numeric resource ids and
// names the payload through Content-Disposition headers; the local filename
// and the trading day both come from there. Client exposes exactly the two
// operations the rest of the tool needs:
//
//   - FetchFileName: read the served filename for a URL without the body
//     (used to probe an id for its trading day)
//   - DownloadFile: stream a file to disk through a temp file, validating
//     the byte count against Content-Length before renaming into place
//
// All failures are *FetchError values classified as NotFound, NetworkError
// or IntegrityError so the download engine can record them uniformly in the
// error ledger.
package http
