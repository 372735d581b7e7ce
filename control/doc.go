// Package control implements the generic control-socket machinery shared by
// the protocol dialects: operation stacking, per-server cache locking,
// asynchronous user interaction, transfer status bookkeeping, timeout
// supervision, and the glue binding a non-blocking socket and its byte
// stream backend to that state machine.
//
// Protocol dialects (FTP, SFTP) sit on top as ProtocolDriver
// implementations; the embedder supplies an EngineHost.
package control
