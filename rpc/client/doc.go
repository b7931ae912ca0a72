// Package client implements the two clients of a kvlog cluster.
//
// Key Components:
//
//   - Peers: the proposer side of the paxos peer protocol. It implements
//     paxos.Peers on top of a fan-out transport and adds the cluster wide
//     probes (max_log_seq, key_log_seq) used by the read path. Every call
//     waits for a quorum of successful replies at most.
//
//   - Client: the client of the http api (put, append, get by key, get by log
//     seq). Requests are spread over all configured endpoints, since any node
//     can serve any request. Errors returned by a node are restored as
//     *store.Error, so store.CodeOf works on them.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"10.0.0.1:8080", "10.0.0.2:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    2,
//	}
//
//	c, err := client.NewClient(config, http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	res, _ := c.Put(ctx, "orders", "order-17", nil, []byte("shipped"))
//	rec, _ := c.Get(ctx, "orders", "order-17")
//	fmt.Println(res.LogSeq == rec.LogSeq, string(rec.Value))
package client
