// Types and procedures for representing Kubernetes objects, and for
// applying them to a cluster.
//
// A Manifest is an object as given in a role's config file, after
// templating; a Resource pairs a Manifest with a client for its kind,
// and knows how to create, update, delete and revert it in the
// cluster.

package resource
