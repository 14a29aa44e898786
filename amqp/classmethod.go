package amqp

// Class and method ids from the AMQP 0-9-1 class table. Numbering
// mirrors packetd-packetd/protocol/pamqp/classmethod.go, which decodes
// the same wire values for passive protocol detection.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
)

const (
	MethodConnectionStart   uint16 = 10
	MethodConnectionStartOk uint16 = 11
	MethodConnectionTune    uint16 = 30
	MethodConnectionTuneOk  uint16 = 31
	MethodConnectionOpen    uint16 = 40
	MethodConnectionOpenOk  uint16 = 41
	MethodConnectionClose   uint16 = 50
	MethodConnectionCloseOk uint16 = 51

	MethodChannelOpen    uint16 = 10
	MethodChannelOpenOk  uint16 = 11
	MethodChannelClose   uint16 = 40
	MethodChannelCloseOk uint16 = 41

	MethodExchangeDeclare   uint16 = 10
	MethodExchangeDeclareOk uint16 = 11

	MethodQueueDeclare   uint16 = 10
	MethodQueueDeclareOk uint16 = 11
	MethodQueueBind      uint16 = 20
	MethodQueueBindOk    uint16 = 21
	MethodQueueUnbind    uint16 = 50
	MethodQueueUnbindOk  uint16 = 51

	MethodBasicQos       uint16 = 10
	MethodBasicQosOk     uint16 = 11
	MethodBasicConsume   uint16 = 20
	MethodBasicConsumeOk uint16 = 21
	MethodBasicCancel    uint16 = 30
	MethodBasicCancelOk  uint16 = 31
	MethodBasicPublish   uint16 = 40
	MethodBasicReturn    uint16 = 50
	MethodBasicDeliver   uint16 = 60
	MethodBasicGet       uint16 = 70
	MethodBasicGetOk     uint16 = 71
	MethodBasicGetEmpty  uint16 = 72
	MethodBasicAck       uint16 = 80
	MethodBasicReject    uint16 = 90
	MethodBasicNack      uint16 = 120
)

// classMethod identifies one method record for dispatch, the same key
// shape as packetd-packetd/protocol/pamqp's classMethod.
type classMethod struct {
	class  uint16
	method uint16
}

// contentBearingMethods are the method ids that are followed by a
// content header + body, per spec.md §6: Basic.Deliver, Basic.GetOk,
// Basic.Return, and (producer-side) Basic.Publish.
var contentBearingMethods = map[classMethod]bool{
	{ClassBasic, MethodBasicPublish}: true,
	{ClassBasic, MethodBasicReturn}:  true,
	{ClassBasic, MethodBasicDeliver}: true,
	{ClassBasic, MethodBasicGetOk}:   true,
}

// IsContentBearing reports whether a method frame of this class/method is
// always immediately followed by a content header frame.
func IsContentBearing(class, method uint16) bool {
	return contentBearingMethods[classMethod{class, method}]
}

// syncReplyMethods are the "*-Ok" methods the reader loop routes to a
// channel's pending responder rather than to a mailbox or consumer.
var syncReplyMethods = map[classMethod]bool{
	{ClassConnection, MethodConnectionOpenOk}:  true,
	{ClassConnection, MethodConnectionCloseOk}: true,
	{ClassChannel, MethodChannelOpenOk}:        true,
	{ClassChannel, MethodChannelCloseOk}:       true,
	{ClassExchange, MethodExchangeDeclareOk}:  true,
	{ClassQueue, MethodQueueDeclareOk}:        true,
	{ClassQueue, MethodQueueBindOk}:           true,
	{ClassQueue, MethodQueueUnbindOk}:         true,
	{ClassBasic, MethodBasicQosOk}:            true,
	{ClassBasic, MethodBasicConsumeOk}:        true,
	{ClassBasic, MethodBasicCancelOk}:         true,
	{ClassBasic, MethodBasicGetOk}:            true,
	{ClassBasic, MethodBasicGetEmpty}:         true,
}

// IsSyncReply reports whether a method frame of this class/method is a
// synchronous reply that must be routed to a channel's responder slot.
func IsSyncReply(class, method uint16) bool {
	return syncReplyMethods[classMethod{class, method}]
}
