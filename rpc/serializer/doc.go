// Package serializer provides the wire value model and its serialization for the
// dLock protocol. Every message exchanged between client and server is a single
// tnetstring (tagged netstring) carrying an ordered sequence of values.
//
// The package focuses on:
//   - An explicit tagged variant (Value) instead of dynamically typed values
//   - A self-delimiting, length-prefixed encoding that can be framed without
//     reading past the end of a message
//   - Strict decoding: malformed input is always reported, never guessed at
//
// Key Components:
//
//   - Value: Tagged variant holding null, bool, int, float, string or list.
//     Constructors (Int, Float, String, Bool, Null, List, Strings) build values,
//     accessors (AsInt, AsNumber, AsString, Items, ...) inspect them.
//
//   - IRPCSerializer: Interface for serializers of Values.
//
//   - tnetstringSerializerImpl: The tnetstring implementation. Each value is
//     encoded as <len>:<payload><tag>, where tag is one of:
//
//     ,  string          #  integer        ^  float
//     !  boolean         ~  null           ]  list (payload is the concatenated items)
//
//     Dictionaries (}) are part of the tnetstring format but not of the
//     protocol and are rejected.
//
// Examples:
//
//	[1, "ping"]   ->  11:1:1#4:ping,]
//	["ok"]        ->  5:2:ok,]
//
// Thread Safety:
//
//	The serializer is stateless and safe for concurrent use. Values are
//	immutable once built.
//
// Usage:
//
//	s := serializer.NewTNetStringSerializer()
//	data, err := s.Serialize(serializer.List(serializer.Int(1), serializer.String("ping")))
//	// ... send data ...
//	v, err := s.Deserialize(receivedData)
package serializer
