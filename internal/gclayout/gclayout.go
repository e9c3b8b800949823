// Package gclayout holds the object layout constants shared between the
// collector and the tools that read heap memory (dumps, verification).
//
// Every heap object starts with an 8 byte header:
//
//	byte 0     kind tag (Tag)
//	byte 1     flags (Flag)
//	bytes 2-3  poison checksum of free storage (hardened mode), else zero
//	bytes 4-7  total object size in bytes, header included (little endian)
//
// The payload that follows is a sequence of 8 byte words. Which words hold
// values, which hold raw integers and which are weak is decided by the tag;
// the Word* constants below name the word index of every field.
package gclayout

// Tag is the kind discriminator stored in the first header byte.
type Tag uint8

const (
	TagFree Tag = iota
	TagString
	TagCompoundString
	TagBoxedArray
	TagWeakArray
	TagHashTable
	TagClass
	TagCode

	// Every tag from TagObject up shares the object base words
	// (WordClass, WordProperties, WordIndexed).
	TagObject
	TagFunction
	TagArguments
	TagStringObject
	TagRegExp
	TagError
	TagArrayBuffer
	TagTypedArray
	TagHostObject
	TagGlobalObject

	NumTags
)

var tagNames = [NumTags]string{
	TagFree:           "free",
	TagString:         "string",
	TagCompoundString: "compound-string",
	TagBoxedArray:     "boxed-array",
	TagWeakArray:      "weak-array",
	TagHashTable:      "hash-table",
	TagClass:          "class",
	TagCode:           "code",
	TagObject:         "object",
	TagFunction:       "function",
	TagArguments:      "arguments",
	TagStringObject:   "string-object",
	TagRegExp:         "regexp",
	TagError:          "error",
	TagArrayBuffer:    "array-buffer",
	TagTypedArray:     "typed-array",
	TagHostObject:     "host-object",
	TagGlobalObject:   "global-object",
}

func (t Tag) String() string {
	if t < NumTags {
		return tagNames[t]
	}
	// must never happen
	return "!err"
}

// IsObject reports whether the tag carries the object base words.
func (t Tag) IsObject() bool { return t >= TagObject && t < NumTags }

// Flag is a header flag bit.
type Flag uint8

const (
	FlagMarked   Flag = 1 << iota // reached during the current mark phase
	FlagLarge                     // object owns a dedicated chunk
	FlagPoisoned                  // free storage overwritten with PoisonByte
)

const (
	// 8 byte granularity: every object size and address is a multiple.
	Align         = 8
	HeaderSize    = 8
	WordSize      = 8
	MinObjectSize = HeaderSize + WordSize

	// Chunks are the unit the page allocator hands out for small objects.
	// A reference is chunkID<<ChunkShift | offset.
	ChunkShift = 16
	ChunkSize  = 1 << ChunkShift
	OffsetMask = ChunkSize - 1
	MaxChunks  = 1 << (32 - ChunkShift)

	// PoisonByte fills freed payloads in hardened mode.
	PoisonByte = 0xdb
)

// RoundUp rounds n up to a multiple of Align.
func RoundUp(n uintptr) uintptr { return (n + Align - 1) &^ (Align - 1) }

// Word indices of the kind specific fields.
const (
	// String: WordLength, then the characters packed from word 1.
	WordLength = 0
	WordChars  = 1

	// CompoundString: WordLength, then the two halves.
	WordLeft  = 1
	WordRight = 2

	// BoxedArray, WeakArray and HashTable: used element count, then the
	// elements (HashTable: key/value pairs).
	WordCount    = 0
	WordElements = 1

	// Class.
	WordParent    = 0
	WordPrototype = 1
	WordPropName  = 2
	WordInstances = 3
	WordPropCount = 4
	ClassWords    = 5

	// Code. WordEvalCache is weak.
	WordCodeName  = 0
	WordConstants = 1
	WordNested    = 2
	WordSource    = 3
	WordEvalCache = 4
	CodeWords     = 5

	// Object base, shared by every tag >= TagObject.
	WordClass      = 0
	WordProperties = 1
	WordIndexed    = 2
	ObjectWords    = 3

	// Function.
	WordCode      = 3
	WordScope     = 4
	WordBoundThis = 5
	FunctionWords = 6

	// Arguments.
	WordCallee     = 3
	WordValues     = 4
	ArgumentsWords = 5

	// StringObject.
	WordPrimitive     = 3
	StringObjectWords = 4

	// RegExp. WordLastInput is weak.
	WordPattern   = 3
	WordFlags     = 4
	WordLastInput = 5
	RegExpWords   = 6

	// Error.
	WordMessage = 3
	WordStack   = 4
	ErrorWords  = 5

	// ArrayBuffer: byte length of the externally accounted backing store.
	WordByteLength   = 3
	ArrayBufferWords = 4

	// TypedArray.
	WordBuffer      = 3
	WordByteOffset  = 4
	WordElemCount   = 5
	TypedArrayWords = 6

	// HostObject.
	WordHostID      = 3
	HostObjectWords = 4

	// GlobalObject: NumPrototypes prototype slots after the base.
	WordPrototypes    = 3
	NumPrototypes     = 8
	GlobalObjectWords = WordPrototypes + NumPrototypes
)

// Size returns the object size in bytes for a payload of n words.
func Size(words int) uintptr { return HeaderSize + uintptr(words)*WordSize }
