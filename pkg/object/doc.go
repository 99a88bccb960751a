/*
Package object implements tangram's content-addressed data model: the
tagged-union Object kinds (leaf, branch, directory, file, symlink,
graph, command, error), the recursive Value type, and the identifier
scheme that ties every addressable entity to the hash of its canonical
encoding.

# Identifiers

Every addressable object has an ID of the form KIND_BODY, where KIND is
a short tag (dir, fil, sym, lef, bra, gph, cmd, err) and BODY is the
base-32 encoding of BLAKE3(serialized bytes). Process IDs (kind pcs)
are not hash-addressed; they are time-ordered (UUIDv7) and live in
package process.

# Graph encoding

Directory, File, and Symlink objects can reference each other cyclically.
Since an object's ID is a hash of its own bytes, a cycle cannot be
expressed as a tree of IDs. Graph decomposes a strongly-connected
component of the artifact graph into an ordered list of nodes; edges
inside the component are GraphReference{Index} rather than IDs. An
artifact that is itself a graph node serializes as a Reference, not a
Node — see graph.go.
*/
package object
