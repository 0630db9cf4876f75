package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"

	"github.com/lucaslimafernandes/pggo/bridge"
)

// The exported functions below are the whole surface visible to the
// foreign binding. Every call is synchronous, every response is a UTF-8
// JSON payload allocated with C.CString, and every returned pointer must
// be released by the caller through FreeCString.

//export ConnectJSON
func ConnectJSON(conninfo *C.char) *C.char {
	return C.CString(string(bridge.Connect(C.GoString(conninfo))))
}

//export CloseJSON
func CloseJSON(handle C.ulonglong) *C.char {
	return C.CString(string(bridge.Close(uint64(handle))))
}

//export Execute
func Execute(handle C.ulonglong, query, params, format *C.char) *C.char {
	_ = format // accepted for ABI compatibility; execute has no row rendering
	return C.CString(string(bridge.Execute(uint64(handle), C.GoString(query), C.GoString(params))))
}

//export Query
func Query(handle C.ulonglong, query, params, format *C.char) *C.char {
	return C.CString(string(bridge.Query(uint64(handle), C.GoString(query), C.GoString(params), C.GoString(format))))
}

//export FreeCString
func FreeCString(p *C.char) { C.free(unsafe.Pointer(p)) }

func main() {}
