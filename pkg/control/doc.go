/*
Package control implements the Supervisor<->Worker control channel: a
net.UnixConn carrying length-prefixed, msgpack-encoded Envelope
frames.

Every message but one follows Send/Recv: a 4-byte big-endian length
prefix, then an Envelope{Tag, Payload} encoded with
hashicorp/go-msgpack/v2's codec, where Payload is itself the
msgpack-encoded form of one of the *Payload structs in protocol.go.
Decoding happens in two steps — Recv gets the Envelope, the caller
dispatches on its Tag and calls DecodePayload into the matching
struct — because the payload shape depends on the tag and msgpack has
no tagged-union support of its own.

REGISTER_UFFD is the exception: it must carry a file descriptor (the
supervisor-created, already-registered userfaultfd), which msgpack
cannot represent.
SendUFFD/RecvUFFD write the same length-prefixed envelope as every
other message but pass the fd alongside it as SCM_RIGHTS ancillary
data via raw unix.Sendmsg/Recvmsg, following the fd-passing shape of
cross-process userfaultfd helpers that hand a uffd fd from a
supervising process to its target.

The fixed tag set is HELLO, REGISTER_UFFD, REGIONS, SNAPSHOT_READY,
RUN, RESULT, RESET, RESET_DONE, SHUTDOWN.
*/
package control
