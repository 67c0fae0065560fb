// Package backend is a small pure-Go reference implementation of the
// training collaborators: a linear fusion classifier, softmax cross-entropy
// and momentum SGD. It exists so the coordinator can be run end to end
// without an external numeric framework.
package backend
