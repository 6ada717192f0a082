// Package persistence connects the LSS responder and the object dictionary
// to the storage manager.
//
// LSSStore persists the node id and bit rate set through LSS and tells the
// responder which bit rates the device supports. ParameterStore implements
// the store and restore objects 0x1010 and 0x1011, which only act on the
// "save" and "load" signatures. AssignmentStore keeps the node ids a master
// handed out in a JSON file on the host.
package persistence
